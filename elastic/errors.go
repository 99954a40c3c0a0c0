package elastic

import "fmt"

// HTTPStatusError represents a non-2xx response from the search engine.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.URL == "" {
		if e.Body == "" {
			return fmt.Sprintf("http status %d", e.StatusCode)
		}
		return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Body)
	}
	if e.Body == "" {
		return fmt.Sprintf("http %s returned status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("http %s returned status %d: %s", e.URL, e.StatusCode, e.Body)
}

// NotFound reports whether the engine answered 404.
func (e *HTTPStatusError) NotFound() bool {
	return e != nil && e.StatusCode == 404
}
