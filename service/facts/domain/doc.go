// Package domain defines the contracts and types of the facts service.
//
// This package depends on neither net/http nor any concrete backend. The
// intent is to keep the decision rules unit-testable and decoupled from
// infrastructure details: the shared store, the upstream API and the model
// client all appear here as interfaces only.
package domain
