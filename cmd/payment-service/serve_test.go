package main

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/gofiber/fiber/v2"
)

func TestFiberErrorHandler(t *testing.T) {
	app := newFiberApp(log.NewStdLogger(io.Discard))
	app.Get("/teapot", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusTeapot, "short and stout")
	})
	app.Get("/panic", func(c *fiber.Ctx) error {
		panic("boom")
	})

	tests := []struct {
		path    string
		status  int
		message string
	}{
		{"/teapot", fiber.StatusTeapot, "short and stout"},
		{"/panic", fiber.StatusInternalServerError, "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest("GET", tt.path, nil))
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.status {
				t.Errorf("expected %d, got %d", tt.status, resp.StatusCode)
			}
			var body map[string]interface{}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body["message"] != tt.message || body["success"] != false {
				t.Errorf("unexpected body %+v", body)
			}
		})
	}
}
