package internal

import "io"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config *Config
	logOut io.Writer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogWriter redirects application logs to w instead of the
// entrypoint's default stream.
func WithLogWriter(w io.Writer) Option {
	return func(a *application) {
		a.logOut = w
	}
}

// out returns the configured log writer, or fallback when none was set.
func (a *application) out(fallback io.Writer) io.Writer {
	if a.logOut != nil {
		return a.logOut
	}
	return fallback
}
