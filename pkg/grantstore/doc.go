// Package grantstore persists short-lived, grant-scoped records (authorization
// codes, tokens, sessions, interaction state) on a document engine.
//
// A Gate owns the single storage connection and signals readiness once it is
// established. A Store ties the Gate to a Registry of collection names, and
// every Adapter obtained from Store.Model works against one collection:
//
//	gate := grantstore.NewGate(log)
//	_ = gate.Connect(ctx, dial)
//	store := grantstore.New(gate, grantstore.WithLogger(log))
//	codes := store.Model("AuthorizationCode") // collection "authorization_code"
//
// Operations issued before readiness fail with ErrNotReady. Destroying a
// record that carries a grantId removes every record of that grant from all
// registered collections.
package grantstore
