// Package orcherr defines the typed failure kinds an orchestrator run can
// report, so callers (the CLI, history records, rollback logic) can branch
// on what went wrong without parsing error strings.
package orcherr

import "fmt"

// Kind classifies why a host-level deployment step failed.
type Kind string

const (
	KindImage          Kind = "image_error"
	KindContainerStart Kind = "container_start_error"
	KindProxyInstall   Kind = "proxy_install_error"
	KindHealthTimeout  Kind = "health_check_timeout"
	KindRollbackFailed Kind = "rollback_failed"
	KindConfig         Kind = "config_error"
	KindSubscriber     Kind = "subscriber_error"
	KindDNSProtocol    Kind = "dns_protocol_error"
)

// Error wraps a failure with the Kind that drives retry/rollback decisions.
type Error struct {
	Kind    Kind
	Host    string
	Service string
	Err     error
}

func (e *Error) Error() string {
	if e.Host != "" {
		return fmt.Sprintf("%s: %s on %s: %v", e.Kind, e.Service, e.Host, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Service, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, service, host string, err error) *Error {
	return &Error{Kind: kind, Host: host, Service: service, Err: err}
}

// Rollbackable reports whether a failure of this kind happens after the
// previous generation has already been archived off the canonical name, and
// therefore needs that rename undone. An image pull failure happens before
// anything on the host is touched, so it doesn't; neither do the config,
// rollback-failure, subscriber and DNS-protocol kinds.
func Rollbackable(kind Kind) bool {
	switch kind {
	case KindContainerStart, KindProxyInstall, KindHealthTimeout:
		return true
	default:
		return false
	}
}
