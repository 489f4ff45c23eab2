package identify

import (
	"sort"
	"sync"

	"github.com/victornm/eventdraw/internal/errors"
)

// Kiosks indexes engines by kiosk name.
type Kiosks struct {
	engines map[string]*Engine
}

func NewKiosks(engines ...*Engine) *Kiosks {
	k := &Kiosks{engines: make(map[string]*Engine, len(engines))}
	for _, e := range engines {
		k.engines[e.Kiosk()] = e
	}

	return k
}

func (k *Kiosks) Get(name string) (*Engine, error) {
	e, ok := k.engines[name]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("kiosk %q not found", name))
	}

	return e, nil
}

func (k *Kiosks) Names() []string {
	names := make([]string, 0, len(k.engines))
	for name := range k.engines {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Stop stops every engine and waits for their loops.
func (k *Kiosks) Stop() {
	var wg sync.WaitGroup
	for _, e := range k.engines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Stop()
		}()
	}
	wg.Wait()
}
