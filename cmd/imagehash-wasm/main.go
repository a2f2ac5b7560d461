//go:build js && wasm

// Command imagehash-wasm exposes a global imagehash(Uint8Array) function to
// a javascript host. It returns the hash string, or an Error value when the
// bytes are not an image, so the host decides whether to throw.
//
//	GOOS=js GOARCH=wasm go build -o imagehash.wasm ./cmd/imagehash-wasm
package main

import (
	"errors"
	"log/slog"
	"os"
	"syscall/js"

	"github.com/alexgQQ/imagehash"
	"github.com/alexgQQ/imagehash/panichook"
)

func hashBytes(buf js.Value) (sum string, err error) {
	defer panichook.Recover(&err)

	if buf.Type() != js.TypeObject || buf.Get("length").Type() != js.TypeNumber {
		return "", errors.New("imagehash expects a Uint8Array")
	}
	data := make([]byte, buf.Get("length").Int())
	js.CopyBytesToGo(data, buf)
	return imagehash.Compute(data)
}

func imagehashFunc(this js.Value, args []js.Value) any {
	if len(args) != 1 {
		return js.Global().Get("Error").New("imagehash expects a single Uint8Array argument")
	}
	sum, err := hashBytes(args[0])
	if err != nil {
		slog.Error("Failed to hash image", "error", err)
		return js.Global().Get("Error").New(err.Error())
	}
	return sum
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	if err := panichook.Install(panichook.Config{Enabled: true}); err != nil {
		slog.Warn("Failed to install panic hook", "error", err)
	}

	js.Global().Set("imagehash", js.FuncOf(imagehashFunc))

	// Keep the exported function alive for the lifetime of the host
	select {}
}
