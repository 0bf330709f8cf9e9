// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package mptcp

import (
	"time"

	"grimm.is/pernet/internal/errors"
)

// Init performs the one-time global setup: it prepares the protocol engine
// and registers the namespace hooks, which publishes the flag in the default
// namespace before returning. It runs at most once per Controller; later
// calls return ErrAlreadyInitialized.
//
// Any error wraps ErrFatalBoot and the caller must stop starting up.
func (c *Controller) Init(engine Engine) error {
	ran := false
	c.once.Do(func() {
		ran = true
		c.initErr = c.boot(engine)
	})
	if !ran {
		return ErrAlreadyInitialized
	}
	return c.initErr
}

func (c *Controller) boot(engine Engine) error {
	start := time.Now()

	engine.InitJoinCookies()
	if err := engine.InitProto(); err != nil {
		return fail(ErrFatalBoot, "mptcp.init", err)
	}
	if err := c.subsys.Register(c.ops); err != nil {
		c.logger.Error("failed to register namespace hooks", "error", err)
		return fail(ErrFatalBoot, "mptcp.init", err)
	}

	c.booted.Store(true)
	elapsed := time.Since(start)
	c.metrics.SetBootInitSeconds(elapsed.Seconds())
	c.logger.Info("multipath initialized", "default", c.subsys.Default(), "took", elapsed)
	return nil
}

// InitV6 registers the IPv6 protocol. It requires a successful Init and runs
// at most once. Unlike Init its failure is not fatal.
func (c *Controller) InitV6(engine Engine) error {
	if !c.booted.Load() {
		return ErrNotInitialized
	}
	if !c.v6.CompareAndSwap(false, true) {
		return ErrAlreadyInitialized
	}
	if err := engine.InitProtoV6(); err != nil {
		c.v6.Store(false)
		return errors.Wrap(err, errors.GetKind(err), "mptcp: ipv6 init")
	}
	return nil
}
