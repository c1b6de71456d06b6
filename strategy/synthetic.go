package strategy

import (
	"github.com/c360/offlinekit/fetch"
)

// Synthetic responses returned when neither cache nor network can help.
// Image failures must never break page layout, so a placeholder graphic is
// served instead of an error; everything else gets a 503.

const placeholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="400" height="300" viewBox="0 0 400 300">` +
	`<rect width="400" height="300" fill="#e2e8f0"/>` +
	`<path d="M160 110h80a10 10 0 0 1 10 10v60a10 10 0 0 1-10 10h-80a10 10 0 0 1-10-10v-60a10 10 0 0 1 10-10z" fill="#94a3b8"/>` +
	`<circle cx="180" cy="135" r="9" fill="#e2e8f0"/>` +
	`<path d="M158 182l24-28 16 18 12-13 30 23z" fill="#e2e8f0"/>` +
	`<text x="200" y="230" text-anchor="middle" font-family="sans-serif" font-size="14" fill="#64748b">Image unavailable offline</text>` +
	`</svg>`

const unavailableBody = "Resource not available offline"

// Unavailable builds the synthetic 503 returned when a resource cannot be
// served from cache or network.
func Unavailable() *fetch.Response {
	return &fetch.Response{
		Status: 503,
		Headers: map[string]string{
			"Content-Type": "text/plain; charset=utf-8",
		},
		Body: []byte(unavailableBody),
	}
}

// Placeholder builds the synthetic placeholder image served on a total image
// miss. Status 200 on purpose: the caller renders it like any other image.
func Placeholder() *fetch.Response {
	return &fetch.Response{
		Status: 200,
		Headers: map[string]string{
			"Content-Type": "image/svg+xml",
		},
		Body: []byte(placeholderSVG),
	}
}
