package preview

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
)

// ReloadScript subscribes to the event stream and reloads the page after a
// successful rebuild.
const ReloadScript = `<script>(function(){var es=new EventSource("` + EventsPath + `");` +
	`es.addEventListener("reload",function(){location.reload()});` +
	`es.addEventListener("build.failed",function(e){console.error("kiln: build failed",e.data)});})();</script>`

// LiveReload returns middleware that injects ReloadScript into successful
// HTML responses, before the closing body tag when there is one.
func LiveReload(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled || r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}
			// Range responses cannot be rewritten.
			r.Header.Del("Range")
			bw := &bufferedWriter{header: make(http.Header), status: http.StatusOK}
			next.ServeHTTP(bw, r)
			bw.flushTo(w)
		})
	}
}

type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) { b.status = status }

func (b *bufferedWriter) Write(p []byte) (int, error) { return b.body.Write(p) }

func (b *bufferedWriter) flushTo(w http.ResponseWriter) {
	body := b.body.Bytes()
	if b.status == http.StatusOK && strings.HasPrefix(b.header.Get("Content-Type"), "text/html") {
		body = inject(body)
		b.header.Set("Content-Length", strconv.Itoa(len(body)))
	}
	for k, v := range b.header {
		w.Header()[k] = v
	}
	w.WriteHeader(b.status)
	_, _ = w.Write(body)
}

func inject(body []byte) []byte {
	idx := bytes.LastIndex(bytes.ToLower(body), []byte("</body>"))
	if idx < 0 {
		return append(body, ReloadScript...)
	}
	out := make([]byte, 0, len(body)+len(ReloadScript))
	out = append(out, body[:idx]...)
	out = append(out, ReloadScript...)
	return append(out, body[idx:]...)
}
