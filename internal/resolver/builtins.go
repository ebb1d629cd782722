package resolver

import "strings"

// coreModules lists the Node.js core modules that may be imported without the
// "node:" prefix.
var coreModules = map[string]struct{}{
	"assert": {}, "assert/strict": {}, "async_hooks": {}, "buffer": {}, "child_process": {},
	"cluster": {}, "console": {}, "constants": {}, "crypto": {}, "dgram": {},
	"diagnostics_channel": {}, "dns": {}, "dns/promises": {}, "domain": {}, "events": {},
	"fs": {}, "fs/promises": {}, "http": {}, "http2": {}, "https": {}, "inspector": {},
	"inspector/promises": {}, "module": {}, "net": {}, "os": {}, "path": {}, "path/posix": {},
	"path/win32": {}, "perf_hooks": {}, "process": {}, "punycode": {}, "querystring": {},
	"readline": {}, "readline/promises": {}, "repl": {}, "stream": {}, "stream/consumers": {},
	"stream/promises": {}, "stream/web": {}, "string_decoder": {}, "sys": {}, "timers": {},
	"timers/promises": {}, "tls": {}, "trace_events": {}, "tty": {}, "url": {}, "util": {},
	"util/types": {}, "v8": {}, "vm": {}, "wasi": {}, "worker_threads": {}, "zlib": {},
}

// IsBuiltin reports whether spec names a Node.js builtin. Prefixed specifiers
// ("node:fs") always qualify; bare names only when bare is true.
func IsBuiltin(spec string, bare bool) bool {
	if strings.HasPrefix(spec, "node:") {
		return true
	}
	if !bare {
		return false
	}
	_, ok := coreModules[spec]
	return ok
}
