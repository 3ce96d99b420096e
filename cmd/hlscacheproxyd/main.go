// Command hlscacheproxyd runs the proxy standalone for local testing outside
// of a mobile host. The host binding layer itself (spec.md §1's
// start_server/convert_url/clear_cache FFI surface) stays out of scope;
// this is just a runnable demonstration entry point the way the teacher's
// main.go is one.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"hlscacheproxy/facade"
	"hlscacheproxy/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.Default

	port := facade.DefaultPort
	if raw, ok := os.LookupEnv("HLS_PROXY_PORT"); ok {
		if v, err := strconv.Atoi(raw); err == nil {
			port = v
		}
	}

	f := facade.New(log)
	if err := f.StartServer(facade.StartOptions{Port: port}); err != nil {
		log.Fatalf("hlscacheproxyd: start_server: %v", err)
	}
	log.Logf("hlscacheproxyd: serving on 127.0.0.1:%d (GET /proxy?url=...)", port)

	<-ctx.Done()
	log.Logf("hlscacheproxyd: shutting down")
	f.Stop()
}
