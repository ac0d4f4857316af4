package plogwatch

import "fmt"

// flattenHandlers walks the "handlers" array and accumulates every numeric leaf under a dotted
// path starting with the handler name. Paths produced by several handlers add up.
func flattenHandlers(handlers Value) (map[string]float64, error) {
	if handlers.Kind() != KindArray {
		return nil, &MissingFieldError{Path: "handlers", Got: handlers.Kind(), Want: "array"}
	}

	acc := make(map[string]float64)
	for i := 0; i < handlers.Len(); i++ {
		handler := handlers.Index(i)
		if handler.Kind() != KindObject {
			return nil, &MissingFieldError{
				Path: fmt.Sprintf("handlers[%d]", i),
				Got:  handler.Kind(),
				Want: "object",
			}
		}
		nameNode := handler.Get("name")
		name, ok := nameNode.Str()
		if !ok {
			return nil, &MissingFieldError{
				Path: fmt.Sprintf("handlers[%d].name", i),
				Got:  nameNode.Kind(),
				Want: "string",
			}
		}

		for _, key := range handler.Keys() {
			if key == "name" {
				continue
			}
			feedHandlerMetric(acc, name+"."+key, handler.Get(key))
		}
	}
	return acc, nil
}

// feedHandlerMetric descends into objects one key at a time and adds everything else at path.
func feedHandlerMetric(acc map[string]float64, path string, v Value) {
	if v.Kind() == KindObject {
		for _, key := range v.Keys() {
			feedHandlerMetric(acc, path+"."+key, v.Get(key))
		}
		return
	}
	acc[path] += flatSum(v)
}

// flatSum is the value of a number, the recursive sum of an array, and zero for anything else.
func flatSum(v Value) float64 {
	switch v.Kind() {
	case KindNumber:
		n, _ := v.Float64()
		return n
	case KindArray:
		var total float64
		for i := 0; i < v.Len(); i++ {
			total += flatSum(v.Index(i))
		}
		return total
	default:
		return 0
	}
}
