// Package httputil provides shared HTTP response helpers so every handler
// emits the same JSON envelope and error shape.
package httputil
