package kiroku

import "github.com/ashita-ai/kiroku/internal/service/ledger"

// TransitionHook receives every committed ledger mutation. Hooks run in
// goroutines after commit and must not block indefinitely. Failures are
// logged but never fail the mutation.
type TransitionHook = ledger.Hook

// TransitionHookFunc adapts a function to TransitionHook.
type TransitionHookFunc = ledger.HookFunc
