// Package facts serves cached facts about external profiles over HTTP.
//
// Layering:
//
//   - domain: contracts and domain types (no net/http dependency)
//   - application: the request pipeline (cache check, budget checks,
//     cooldown gates, upstream fetch plan, score derivation), still no
//     net/http
//   - infra: concrete implementations (Redis/memory/bbolt stores, the
//     upstream API client, the model client, stats sinks, slot pool)
//   - facts (this package): HTTP handlers + client identity extraction +
//     translation of pipeline outcomes to statuses and headers
//
// Request flow:
//
//  1. Extract the client key (token subject, header, XFF or peer IP)
//  2. Run the pipeline for the requested operation
//  3. On success respond 200 with X-Cache HIT or MISS; otherwise the
//     outcome's status (429 for both local and upstream limits, 404, 502
//     for a failed derivation, 503, 500)
//
// Environment variables of the gateway binary (cmd/gateway) select the
// store backend, budgets, upstream endpoints and the fail-open or
// fail-closed posture.
package facts
