// Package container is a small reflection-based constructor injector used
// by main to wire the service graph.
package container

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

type Container struct {
	mu        sync.Mutex
	prov      map[reflect.Type]provider
	instances map[reflect.Type]reflect.Value
	order     []reflect.Type // singleton build order, for Close
}

type provider struct {
	fn        reflect.Value
	singleton bool
}

func New() *Container {
	return &Container{prov: make(map[reflect.Type]provider), instances: make(map[reflect.Type]reflect.Value)}
}

// Provide registers a constructor returning (T) or (T, error). Its
// parameters are resolved from the container.
func (c *Container) Provide(constructor interface{}, singleton bool) error {
	v := reflect.ValueOf(constructor)
	if v.Kind() != reflect.Func {
		return fmt.Errorf("container: constructor must be a function")
	}
	ft := v.Type()
	if ft.NumOut() == 0 || ft.NumOut() > 2 {
		return fmt.Errorf("container: constructor must return (T) or (T, error)")
	}
	if ft.NumOut() == 2 && ft.Out(1) != errorType {
		return fmt.Errorf("container: second return value must be error")
	}
	outType := ft.Out(0)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.prov[outType]; exists {
		return fmt.Errorf("container: provider already exists for %v", outType)
	}
	c.prov[outType] = provider{fn: v, singleton: singleton}
	return nil
}

// Supply registers an already built value as a singleton.
func (c *Container) Supply(value interface{}) error {
	v := reflect.ValueOf(value)
	if !v.IsValid() {
		return fmt.Errorf("container: cannot supply nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t := v.Type()
	if _, exists := c.prov[t]; exists {
		return fmt.Errorf("container: provider already exists for %v", t)
	}
	if _, exists := c.instances[t]; exists {
		return fmt.Errorf("container: value already supplied for %v", t)
	}
	c.instances[t] = v
	return nil
}

// Resolve populates target (a non-nil pointer) with an instance of its
// element type: var g *georef.Client; c.Resolve(&g)
func (c *Container) Resolve(target interface{}) error {
	ptr := reflect.ValueOf(target)
	if ptr.Kind() != reflect.Ptr || ptr.IsNil() {
		return fmt.Errorf("container: target must be a non-nil pointer")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	val, err := c.get(ptr.Elem().Type(), make(map[reflect.Type]bool))
	if err != nil {
		return err
	}
	ptr.Elem().Set(val)
	return nil
}

// Invoke calls fn with its parameters resolved from the container. A
// trailing error return is propagated.
func (c *Container) Invoke(fn interface{}) error {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return fmt.Errorf("container: Invoke requires a function")
	}
	ft := v.Type()
	args := make([]reflect.Value, ft.NumIn())

	c.mu.Lock()
	for i := 0; i < ft.NumIn(); i++ {
		val, err := c.get(ft.In(i), make(map[reflect.Type]bool))
		if err != nil {
			c.mu.Unlock()
			return err
		}
		args[i] = val
	}
	c.mu.Unlock()

	outs := v.Call(args)
	if n := len(outs); n > 0 && outs[n-1].Type() == errorType && !outs[n-1].IsNil() {
		return outs[n-1].Interface().(error)
	}
	return nil
}

// Close closes every built singleton implementing io.Closer, newest first,
// and joins their errors.
func (c *Container) Close() error {
	c.mu.Lock()
	order := c.order
	instances := c.instances
	c.order = nil
	c.instances = make(map[reflect.Type]reflect.Value)
	c.mu.Unlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		v := instances[order[i]]
		if closer, ok := v.Interface().(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %v: %w", order[i], err))
			}
		}
	}
	return errors.Join(errs...)
}

// get must be called with c.mu held. Constructors run under the lock, so
// a singleton is built at most once.
func (c *Container) get(t reflect.Type, seen map[reflect.Type]bool) (reflect.Value, error) {
	if v, ok := c.instances[t]; ok {
		return v, nil
	}
	key := t
	prov, ok := c.prov[t]
	if !ok && t.Kind() == reflect.Interface {
		for pt, p := range c.prov {
			if pt.Implements(t) {
				key, prov, ok = pt, p, true
				break
			}
		}
		if !ok {
			for it, v := range c.instances {
				if it.Implements(t) {
					return v, nil
				}
			}
		}
	}
	if !ok {
		return reflect.Value{}, fmt.Errorf("container: no provider for %v", t)
	}
	if v, built := c.instances[key]; built {
		return v, nil
	}

	if seen[key] {
		return reflect.Value{}, fmt.Errorf("container: cyclic dependency for %v", key)
	}
	seen[key] = true

	ft := prov.fn.Type()
	args := make([]reflect.Value, ft.NumIn())
	for i := 0; i < ft.NumIn(); i++ {
		dep, err := c.get(ft.In(i), seen)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("container: building %v: %w", key, err)
		}
		args[i] = dep
	}
	outs := prov.fn.Call(args)
	if len(outs) == 2 && !outs[1].IsNil() {
		return reflect.Value{}, outs[1].Interface().(error)
	}
	res := outs[0]

	if prov.singleton {
		c.instances[key] = res
		c.order = append(c.order, key)
	}
	return res, nil
}
