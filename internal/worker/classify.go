package worker

import (
	"errors"
	"net"
	"net/url"

	"github.com/degov/workflow-core/internal/kerrors"
)

// classifyFailure turns a dispatch error into the message fail() reports
// and whether the queue should apply the shorter Transient backoff instead
// of its default (§4.5 step 4: "Only Transient counts toward retries
// differently (shorter backoff); others use default backoff"). A
// *kerrors.ScriptError carries its own kind (Timeout, OOM, Throw,
// HostDenied) and is never transient; a network-shaped error (the HTTP
// action's own client, or ErrTransient from a collaborator) is.
func classifyFailure(err error) (message string, transient bool) {
	var scriptErr *kerrors.ScriptError
	if errors.As(err, &scriptErr) {
		return scriptErr.Error(), false
	}

	if errors.Is(err, kerrors.ErrTransient) {
		return err.Error(), true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return err.Error(), true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return err.Error(), true
	}

	return err.Error(), false
}
