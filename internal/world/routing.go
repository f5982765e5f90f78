package world

import (
	"encoding/json"
	"fmt"
	"path"

	"github.com/fxamacker/cbor/v2"

	"worldsim/internal/filterdsl"
	"worldsim/internal/sandbox"
	"worldsim/internal/worldtypes"
)

// routePostEvent iterates active modules in lexicographic module_id order and
// invokes every PostEvent subscription whose kind pattern and filter match ev
// (spec.md §4.5 "Module routing").
func (r *Runtime) routePostEvent(ev worldtypes.Event) {
	if r.invoker == nil {
		return
	}
	doc := eventDoc(ev)
	for _, moduleID := range r.reg.ActiveModuleIDs() {
		manifest, ok := r.reg.ActiveManifest(moduleID)
		if !ok {
			continue
		}
		for _, sub := range manifest.Subscriptions {
			if sub.Stage != worldtypes.StagePostEvent {
				continue
			}
			if !matchPattern(sub.KindPattern, string(ev.Body.Kind)) {
				continue
			}
			if !passesFilter(sub.Filter, doc, true) {
				continue
			}
			r.invokeModule(manifest, sub, worldtypes.Action{}, &ev.Body)
		}
	}
}

// routePreAction/routePostAction are symmetric with routePostEvent but fire
// against a submitted action and stages PreAction/PostAction respectively
// (spec.md §4.5 "Module routing").
func (r *Runtime) routePreAction(action worldtypes.Action) {
	r.routeActionStage(action, worldtypes.StagePreAction)
}

func (r *Runtime) routePostAction(action worldtypes.Action) {
	r.routeActionStage(action, worldtypes.StagePostAction)
}

func (r *Runtime) routeActionStage(action worldtypes.Action, stage worldtypes.Stage) {
	if r.invoker == nil {
		return
	}
	doc := actionDoc(action)
	for _, moduleID := range r.reg.ActiveModuleIDs() {
		manifest, ok := r.reg.ActiveManifest(moduleID)
		if !ok {
			continue
		}
		for _, sub := range manifest.Subscriptions {
			if sub.Stage != stage {
				continue
			}
			if !matchPattern(sub.KindPattern, action.Kind) {
				continue
			}
			if !passesFilter(sub.Filter, doc, false) {
				continue
			}
			r.invokeModule(manifest, sub, action, nil)
		}
	}
}

// invokeModule builds the canonical-CBOR ModuleCallInput, calls the sandbox,
// and processes its output (spec.md §4.5 "Sandbox output processing"). Call
// failures are journaled as ModuleCallFailed and never corrupt state
// (spec.md §4.5 "Failure semantics").
func (r *Runtime) invokeModule(manifest worldtypes.ModuleManifest, sub worldtypes.Subscription, action worldtypes.Action, event *worldtypes.EventBody) {
	var moduleState []byte
	if manifest.Kind == worldtypes.ModuleReducer {
		moduleState, _ = r.state.ModuleStates.Get(string(manifest.ModuleID))
	}

	var actionPtr *worldtypes.Action
	if event == nil {
		actionPtr = &action
	}
	input := sandbox.ModuleCallInput{
		Ctx:    map[string]string{"stage": string(sub.Stage)},
		Event:  event,
		Action: actionPtr,
		State:  moduleState,
	}
	encoded, err := cbor.Marshal(input)
	if err != nil {
		r.journalModuleCallFailed(manifest.ModuleID, sandbox.CodeInvalidOutput, fmt.Sprintf("encode input: %v", err))
		return
	}

	req := sandbox.ModuleCallRequest{
		ModuleID:   manifest.ModuleID,
		WasmHash:   manifest.WasmHash,
		TraceID:    fmt.Sprintf("%s-%d", manifest.ModuleID, r.state.Time),
		Entrypoint: sub.Entrypoint,
		InputBytes: encoded,
		Limits:     manifest.Limits,
	}
	out, callErr := r.invoker.Call(req)
	if callErr != nil {
		r.journalModuleCallFailed(manifest.ModuleID, callErr.Code, callErr.Detail)
		return
	}
	r.processModuleOutput(manifest, out)
}

func (r *Runtime) journalModuleCallFailed(moduleID worldtypes.ModuleID, code sandbox.FailureCode, detail string) {
	_, _ = r.appendEvent(worldtypes.EventBody{
		Kind: worldtypes.BodyModuleCallFailed,
		ModuleCallFailed: &worldtypes.ModuleCallFailedBody{
			ModuleID: moduleID,
			Code:     string(code),
			Detail:   detail,
		},
	}, nil)
}

// processModuleOutput enforces the output invariants of spec.md §4.5: Pure
// modules may not return new_state, and every effect's cap_ref must be listed
// in the manifest's required_caps. It then journals ModuleStateUpdated (if
// any), each EffectQueued, and each ModuleEmitted, in that order.
func (r *Runtime) processModuleOutput(manifest worldtypes.ModuleManifest, out *sandbox.ModuleOutput) {
	if manifest.Kind == worldtypes.ModulePure && len(out.NewState) > 0 {
		r.journalModuleCallFailed(manifest.ModuleID, sandbox.CodeInvalidOutput, "pure module returned new_state")
		return
	}
	for _, eff := range out.Effects {
		if !manifest.RequiresCapability(eff.CapRef) {
			r.journalModuleCallFailed(manifest.ModuleID, sandbox.CodeCapsDenied, fmt.Sprintf("cap_ref %q not in required_caps", eff.CapRef))
			return
		}
	}

	if len(out.NewState) > 0 {
		if _, err := r.appendEvent(worldtypes.EventBody{
			Kind:               worldtypes.BodyModuleStateUpdated,
			ModuleStateUpdated: &worldtypes.ModuleStateUpdatedBody{ModuleID: manifest.ModuleID, NewState: out.NewState},
		}, nil); err != nil {
			return
		}
	}

	for _, eff := range out.Effects {
		intentID, err := r.EmitEffect(eff.Kind, eff.Params, eff.CapRef, string(manifest.ModuleID))
		if err != nil {
			code := sandbox.CodeInvalidOutput
			switch err.(type) {
			case *CapabilityError:
				code = sandbox.CodeCapsDenied
			case *PolicyDeniedError:
				code = sandbox.CodePolicyDenied
			}
			r.journalModuleCallFailed(manifest.ModuleID, code, fmt.Sprintf("effect %s: %v", intentID, err))
			return
		}
	}

	for _, emit := range out.Emits {
		if _, err := r.appendEvent(worldtypes.EventBody{
			Kind:          worldtypes.BodyModuleEmitted,
			ModuleEmitted: &worldtypes.ModuleEmittedBody{ModuleID: manifest.ModuleID, Payload: emit},
		}, nil); err != nil {
			return
		}
	}
}

// matchPattern matches a subscription's kind_pattern against kind using
// path.Match glob semantics ("*" and "?" wildcards, e.g. "agent.*").
func matchPattern(pattern, kind string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	ok, err := path.Match(pattern, kind)
	return err == nil && ok
}

// passesFilter reports whether a subscription's raw filter JSON (if any)
// matches doc. isEvent selects whether the compiled Filter's event or action
// ruleset is consulted. A subscription with no filter always passes.
func passesFilter(raw []byte, doc any, isEvent bool) bool {
	if len(raw) == 0 {
		return true
	}
	var f filterdsl.Filter
	if err := json.Unmarshal(raw, &f); err != nil {
		return false
	}
	compiled, err := filterdsl.Compile(f)
	if err != nil {
		return false
	}
	if isEvent {
		return compiled.MatchEvent(doc)
	}
	return compiled.MatchAction(doc)
}

func eventDoc(ev worldtypes.Event) any {
	b, err := json.Marshal(ev.Body)
	if err != nil {
		return nil
	}
	var doc any
	_ = json.Unmarshal(b, &doc)
	return doc
}

func actionDoc(action worldtypes.Action) any {
	b, err := json.Marshal(action)
	if err != nil {
		return nil
	}
	var doc any
	_ = json.Unmarshal(b, &doc)
	return doc
}
