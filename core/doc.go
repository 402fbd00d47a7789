// Package core contains the smart home domain contracts, entities, and
// orchestration: token management, the endpoint registry, endpoint
// lifecycle and directive routing. Adapters depend on this package; core
// must not depend on storage, transport or provider adapters.
package core
