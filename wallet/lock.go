// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import "sync"

// opGuard serializes every operation that reads chain state and then mutates
// the wallet. The chain mutex is always taken before the wallet mutex.
type opGuard struct {
	chainMtx  sync.Mutex
	walletMtx sync.Mutex
}

// acquire takes both locks and returns the func releasing them.
func (g *opGuard) acquire() func() {
	g.chainMtx.Lock()
	g.walletMtx.Lock()

	return func() {
		g.walletMtx.Unlock()
		g.chainMtx.Unlock()
	}
}
