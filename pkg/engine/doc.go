// Package engine defines the core types and contracts of the nbdeploy
// orchestration engine: the lifecycle stage machine, the template reference
// naming a backend combination, and the narrow interfaces through which the
// infrastructure-as-code engine and the provider control channel are consumed.
//
// The package deliberately contains no provider- or engine-specific code.
// Concrete implementations live under pkg/backends and are resolved at
// runtime through pkg/registry, so that importing this package (or any of the
// stores and controllers built on it) never pulls in a cloud SDK.
package engine
