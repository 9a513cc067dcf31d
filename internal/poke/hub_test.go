// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package poke_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lindylearn/unclutter-sync/internal/config"
	"github.com/lindylearn/unclutter-sync/internal/poke"
)

// loopbackFanout delivers every published poke to the running hub.
type loopbackFanout struct {
	mu         sync.Mutex
	deliver    func(string)
	published  []string
	publishErr error
	closed     bool
	running    chan struct{}
}

func newLoopbackFanout() *loopbackFanout {
	return &loopbackFanout{running: make(chan struct{})}
}

func (f *loopbackFanout) Publish(_ context.Context, spaceID string) error {
	f.mu.Lock()
	f.published = append(f.published, spaceID)
	deliver, err := f.deliver, f.publishErr
	f.mu.Unlock()

	if err != nil {
		return err
	}

	if deliver != nil {
		deliver(spaceID)
	}

	return nil
}

func (f *loopbackFanout) Run(ctx context.Context, deliver func(string)) error {
	f.mu.Lock()
	f.deliver = deliver
	f.mu.Unlock()
	close(f.running)

	<-ctx.Done()

	return ctx.Err()
}

func (f *loopbackFanout) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true

	return nil
}

var _ = Describe("Hub", func() {
	var (
		ctx context.Context
		hub *poke.Hub
	)

	BeforeEach(func() {
		ctx = context.Background()
		hub = poke.NewHub(nil, nil)
	})

	It("calls the listeners of the poked space only", func() {
		var s1, s2 atomic.Int32

		hub.AddListener("s1", func() { s1.Add(1) })
		hub.AddListener("s1", func() { s1.Add(1) })
		hub.AddListener("s2", func() { s2.Add(1) })

		Expect(hub.Poke(ctx, "s1")).To(Succeed())
		Expect(s1.Load()).To(BeEquivalentTo(2))
		Expect(s2.Load()).To(BeEquivalentTo(0))
	})

	It("stops calling a listener once it is unregistered", func() {
		var calls atomic.Int32

		unregister := hub.AddListener("s1", func() { calls.Add(1) })
		Expect(hub.Listeners("s1")).To(Equal(1))

		unregister()
		unregister()
		Expect(hub.Listeners("s1")).To(Equal(0))

		Expect(hub.Poke(ctx, "s1")).To(Succeed())
		Expect(calls.Load()).To(BeEquivalentTo(0))
	})

	It("keeps poking after a listener panics", func() {
		var calls atomic.Int32

		hub.AddListener("s1", func() { panic("closed stream") })
		hub.AddListener("s1", func() { calls.Add(1) })

		Expect(hub.Poke(ctx, "s1")).To(Succeed())
		Expect(calls.Load()).To(BeEquivalentTo(1))
	})

	It("tolerates listeners registering while a poke is delivered", func() {
		var wg sync.WaitGroup

		for i := 0; i < 20; i++ {
			wg.Add(2)

			go func() {
				defer GinkgoRecover()
				defer wg.Done()

				unregister := hub.AddListener("s1", func() {})
				unregister()
			}()

			go func() {
				defer GinkgoRecover()
				defer wg.Done()

				Expect(hub.Poke(ctx, "s1")).To(Succeed())
			}()
		}

		wg.Wait()
		Expect(hub.Listeners("s1")).To(Equal(0))
	})

	It("returns from Run without a fanout when the context ends", func() {
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)

		go func() { done <- hub.Run(runCtx) }()

		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})

	Context("with a fanout", func() {
		var fanout *loopbackFanout

		BeforeEach(func() {
			fanout = newLoopbackFanout()
			hub = poke.NewHub(fanout, nil)
		})

		It("publishes and delivers what comes back", func() {
			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			done := make(chan error, 1)
			go func() { done <- hub.Run(runCtx) }()
			Eventually(fanout.running).Should(BeClosed())

			var calls atomic.Int32
			hub.AddListener("s1", func() { calls.Add(1) })

			Expect(hub.Poke(ctx, "s1")).To(Succeed())
			Expect(fanout.published).To(Equal([]string{"s1"}))
			Expect(calls.Load()).To(BeEquivalentTo(1), "a published poke is delivered once")

			cancel()
			Eventually(done).Should(Receive(BeNil()))

			Expect(hub.Close()).To(Succeed())
			Expect(fanout.closed).To(BeTrue())
		})

		It("reports publish failures", func() {
			fanout.publishErr = errors.New("redis down")

			Expect(hub.Poke(ctx, "s1")).To(MatchError(ContainSubstring("redis down")))
		})
	})
})

var _ = Describe("New", func() {
	base := func() *config.Config {
		return &config.Config{
			PokeBackend: config.PokeBackendSSE,
			PokeFanout:  config.FanoutNone,
			Redis:       config.Redis{Addr: "localhost:6379"},
		}
	}

	It("uses the managed backend for Supabase", func() {
		cfg := base()
		cfg.PokeBackend = config.PokeBackendSupabase

		p, err := poke.New(cfg, nil, testLog())
		Expect(err).NotTo(HaveOccurred())
		Expect(p).To(Equal(poke.Managed{}))
		Expect(p.Poke(context.Background(), "s1")).To(Succeed())
	})

	It("uses a hub without fanout by default", func() {
		p, err := poke.New(base(), nil, testLog())
		Expect(err).NotTo(HaveOccurred())
		Expect(p).To(BeAssignableToTypeOf(&poke.Hub{}))
	})

	It("uses a hub with a redis fanout", func() {
		cfg := base()
		cfg.PokeFanout = config.FanoutRedis

		p, err := poke.New(cfg, nil, testLog())
		Expect(err).NotTo(HaveOccurred())
		Expect(p).To(BeAssignableToTypeOf(&poke.Hub{}))
		Expect(p.(*poke.Hub).Close()).To(Succeed())
	})

	It("needs a postgres pool for the postgres fanout", func() {
		cfg := base()
		cfg.PokeFanout = config.FanoutPostgres

		_, err := poke.New(cfg, nil, testLog())
		Expect(err).To(MatchError(config.ErrInvalidConfig))
	})

	It("rejects unknown backends", func() {
		cfg := base()
		cfg.PokeBackend = "websocket"

		_, err := poke.New(cfg, nil, testLog())
		Expect(err).To(MatchError(config.ErrInvalidConfig))
	})
})
