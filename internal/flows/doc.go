// Package flows contains the orchestrators behind Engine login and passcode
// operations.
//
// Each flow function (RunLogin, RunCompleteLogin, RunRequestOTP, ...) accepts a
// typed dependency struct of plain functions. The engine owns the limiter,
// stores, token services and audit dispatcher; flows only sequence calls to
// them, so they can be driven by fakes in tests.
//
// Flows hold no state between calls and must not import the root goGuard
// package.
package flows
