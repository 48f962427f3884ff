package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
)

// ExampleServer_Handler probes the ops server the way a liveness check would.
func ExampleServer_Handler() {
	server := NewServer(Options{})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	fmt.Println(rec.Code, rec.Body.String())
	// Output:
	// 200 {"status":"ok"}
}
