package bootstrap

import (
	"context"
	"log"
	"sync"

	"portenta-bridge/internal/adapters"
)

// Named is an adapter with a tag for the logs.
type Named struct {
	Name    string
	Adapter adapters.Adapter
}

// RunAll запускает фоновые адаптеры и ждёт их завершения после отмены ctx.
// Ошибка одного адаптера не останавливает остальные.
func RunAll(ctx context.Context, list ...Named) error {
	var wg sync.WaitGroup
	for _, n := range list {
		if n.Adapter == nil {
			continue
		}
		wg.Add(1)
		go func(n Named) {
			defer wg.Done()
			log.Printf("[bootstrap] %s started", n.Name)
			if err := n.Adapter.Start(ctx); err != nil {
				log.Printf("[bootstrap] %s stopped: %v", n.Name, err)
				return
			}
			log.Printf("[bootstrap] %s stopped", n.Name)
		}(n)
	}

	// ждём завершения
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}
