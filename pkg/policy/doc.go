/*
Package policy implements layered authorization for probe dispatch.

Three layers compose into a single allow/deny decision:

  - Roles: member < admin < owner, a total order with monotonic permission
    inheritance (each role holds every lower role's permissions plus its
    own additions). Unknown role strings map to level 0 and hold nothing —
    fail closed.

  - API-key allow-lists: optional per-key restrictions on which agents
    (exact match) and which probes (glob match) the key may invoke. An
    empty or absent list is unrestricted on that axis.

  - Access groups: per-user visibility scoping over agent names (glob
    patterns) and integration ids. A user with no group assignment sees
    everything — default-open.

Globs support a single operator, `*`, matching any run of characters, and
are anchored over the full string. Patterns are compiled once and cached;
evaluation never rebuilds match machinery per call.

Every evaluation returns a Decision value with an optional reason. Policy
checks do not return errors and do not panic: denial is data, not control
flow.
*/
package policy
