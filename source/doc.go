// Package source provides the pull-based tree source consumed by the
// converter. Sources are lazy, finite, single-pass and non-restartable;
// consumption order defines tree ordinals and is a correctness requirement.
package source
