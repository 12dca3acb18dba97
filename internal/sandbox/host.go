package sandbox

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/dop251/goja"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/time/rate"

	"github.com/degov/workflow-core/internal/kerrors"
)

// KVHost is the collaborator a script's kv.get/kv.set calls forward to.
// It is constructed per evaluation already scoped to one instance; the
// relative keys a script passes are validated here before being handed
// down, rejecting anything that looks like an attempt to escape the
// instance's own context subtree.
type KVHost interface {
	Get(ctx context.Context, relativeKey string) (any, error)
	Set(ctx context.Context, relativeKey string, value any) error
}

// Notifier delivers outbound notifications on behalf of a script. Calls
// are treated as at-least-once (§9, "Shared resources").
type Notifier interface {
	Email(ctx context.Context, to, subject, body string) error
	SMS(ctx context.Context, to, body string) error
}

// Federator issues calls to other federated authorities. Like Notifier,
// delivery is at-least-once and idempotency is the caller's concern.
type Federator interface {
	Request(ctx context.Context, target string, payload any) (any, error)
	Notify(ctx context.Context, target string, payload any) error
}

// Collaborators bundles the out-of-scope handlers (§1) a sandbox needs
// to bind the host API. Any of these may be nil if the evaluation's
// CapabilitySet never grants the capability that would use it.
type Collaborators struct {
	KV        KVHost
	Notifier  Notifier
	Federator Federator
}

func hostDenied(message string) error {
	return kerrors.NewScriptError(kerrors.ScriptHostDenied, message)
}

func validRelativeKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return false
	}
	return true
}

// waitForCapacity blocks the calling host function until limiter has a
// token, or panics with a classified timeout if ctx gives out first. A nil
// limiter (no InstanceID on the request) never throttles.
func waitForCapacity(vm *goja.Runtime, limiter *rate.Limiter, ctx context.Context, call string) {
	if limiter == nil {
		return
	}
	if err := limiter.Wait(ctx); err != nil {
		panic(vm.NewGoError(kerrors.NewScriptError(kerrors.ScriptTimeout, call+": rate limit wait: "+err.Error())))
	}
}

// bindHost attaches only the objects and functions caps grants into vm.
// A capability absent from caps means the corresponding property is
// simply never set: a family with no granted capability (kv, crypto,
// notify, federated) is missing from the global object, so a script that
// references it gets goja's normal "is not defined" ReferenceError, and a
// function missing from a bound family (kv.set under a guard) is
// undefined, so calling it is a TypeError. limiter throttles
// notify.*/federated.* calls per instance (§5); it may be nil.
func bindHost(vm *goja.Runtime, caps CapabilitySet, collab Collaborators, ctx context.Context, limiter *rate.Limiter) {
	if caps.Has(CapKVGet) || caps.Has(CapKVSet) {
		kvObj := vm.NewObject()
		if caps.Has(CapKVGet) {
			_ = kvObj.Set("get", func(call goja.FunctionCall) goja.Value {
				key := call.Argument(0).String()
				if !validRelativeKey(key) {
					panic(vm.NewGoError(hostDenied(fmt.Sprintf("kv.get: invalid key %q", key))))
				}
				if collab.KV == nil {
					panic(vm.NewGoError(hostDenied("kv.get: no kv host bound")))
				}
				v, err := collab.KV.Get(ctx, key)
				if err != nil {
					panic(vm.NewGoError(err))
				}
				return vm.ToValue(v)
			})
		}
		if caps.Has(CapKVSet) {
			_ = kvObj.Set("set", func(call goja.FunctionCall) goja.Value {
				key := call.Argument(0).String()
				if !validRelativeKey(key) {
					panic(vm.NewGoError(hostDenied(fmt.Sprintf("kv.set: invalid key %q", key))))
				}
				if collab.KV == nil {
					panic(vm.NewGoError(hostDenied("kv.set: no kv host bound")))
				}
				value := call.Argument(1).Export()
				if err := collab.KV.Set(ctx, key, value); err != nil {
					panic(vm.NewGoError(err))
				}
				return goja.Undefined()
			})
		}
		_ = vm.Set("kv", kvObj)
	}

	if caps.Has(CapCryptoHash) || caps.Has(CapCryptoSign) || caps.Has(CapCryptoVerify) || caps.Has(CapCryptoGenerateDID) {
		cryptoObj := vm.NewObject()
		if caps.Has(CapCryptoHash) {
			_ = cryptoObj.Set("hash", func(call goja.FunctionCall) goja.Value {
				data := call.Argument(0).String()
				sum := sha256.Sum256([]byte(data))
				return vm.ToValue(hex.EncodeToString(sum[:]))
			})
		}
		if caps.Has(CapCryptoSign) {
			_ = cryptoObj.Set("sign", func(call goja.FunctionCall) goja.Value {
				data := call.Argument(0).String()
				key := call.Argument(1).String()
				mac := hmac.New(sha256.New, []byte(key))
				mac.Write([]byte(data))
				return vm.ToValue(hex.EncodeToString(mac.Sum(nil)))
			})
		}
		if caps.Has(CapCryptoVerify) {
			_ = cryptoObj.Set("verify", func(call goja.FunctionCall) goja.Value {
				data := call.Argument(0).String()
				key := call.Argument(1).String()
				sig := call.Argument(2).String()
				mac := hmac.New(sha256.New, []byte(key))
				mac.Write([]byte(data))
				expected := hex.EncodeToString(mac.Sum(nil))
				return vm.ToValue(hmac.Equal([]byte(expected), []byte(sig)))
			})
		}
		if caps.Has(CapCryptoGenerateDID) {
			_ = cryptoObj.Set("generate_did", func(call goja.FunctionCall) goja.Value {
				seed := call.Argument(0).String()
				reader := hkdf.New(sha256.New, []byte(seed), nil, []byte("degov-workflow-did"))
				derived := make([]byte, 16)
				if _, err := io.ReadFull(reader, derived); err != nil {
					panic(vm.NewGoError(err))
				}
				return vm.ToValue("did:key:" + hex.EncodeToString(derived))
			})
		}
		_ = vm.Set("crypto", cryptoObj)
	}

	if caps.Has(CapNotifyEmail) || caps.Has(CapNotifySMS) {
		notifyObj := vm.NewObject()
		if caps.Has(CapNotifyEmail) {
			_ = notifyObj.Set("email", func(call goja.FunctionCall) goja.Value {
				if collab.Notifier == nil {
					panic(vm.NewGoError(hostDenied("notify.email: no notifier bound")))
				}
				waitForCapacity(vm, limiter, ctx, "notify.email")
				to := call.Argument(0).String()
				subject := call.Argument(1).String()
				body := call.Argument(2).String()
				if err := collab.Notifier.Email(ctx, to, subject, body); err != nil {
					panic(vm.NewGoError(err))
				}
				return goja.Undefined()
			})
		}
		if caps.Has(CapNotifySMS) {
			_ = notifyObj.Set("sms", func(call goja.FunctionCall) goja.Value {
				if collab.Notifier == nil {
					panic(vm.NewGoError(hostDenied("notify.sms: no notifier bound")))
				}
				waitForCapacity(vm, limiter, ctx, "notify.sms")
				to := call.Argument(0).String()
				body := call.Argument(1).String()
				if err := collab.Notifier.SMS(ctx, to, body); err != nil {
					panic(vm.NewGoError(err))
				}
				return goja.Undefined()
			})
		}
		_ = vm.Set("notify", notifyObj)
	}

	if caps.Has(CapFederatedRequest) || caps.Has(CapFederatedNotify) {
		federatedObj := vm.NewObject()
		if caps.Has(CapFederatedRequest) {
			_ = federatedObj.Set("request", func(call goja.FunctionCall) goja.Value {
				if collab.Federator == nil {
					panic(vm.NewGoError(hostDenied("federated.request: no federator bound")))
				}
				waitForCapacity(vm, limiter, ctx, "federated.request")
				target := call.Argument(0).String()
				payload := call.Argument(1).Export()
				result, err := collab.Federator.Request(ctx, target, payload)
				if err != nil {
					panic(vm.NewGoError(err))
				}
				return vm.ToValue(result)
			})
		}
		if caps.Has(CapFederatedNotify) {
			_ = federatedObj.Set("notify", func(call goja.FunctionCall) goja.Value {
				if collab.Federator == nil {
					panic(vm.NewGoError(hostDenied("federated.notify: no federator bound")))
				}
				waitForCapacity(vm, limiter, ctx, "federated.notify")
				target := call.Argument(0).String()
				payload := call.Argument(1).Export()
				if err := collab.Federator.Notify(ctx, target, payload); err != nil {
					panic(vm.NewGoError(err))
				}
				return goja.Undefined()
			})
		}
		_ = vm.Set("federated", federatedObj)
	}
}
