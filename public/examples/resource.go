package examples

import "fmt"

// item is one record of the fixed demo dataset.
type item struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

var resourceData = []item{
	{ID: 1, Name: "Thing A"},
	{ID: 2, Name: "Thing B"},
	{ID: 3, Name: "Thing C"},
}

// Resource is the REST gateway's demo target: a GET with no further path
// segments lists every item's id, a GET with one extra segment resolves
// that single item, mirroring the original demo's Resource/Item split
// without needing two registry entries — the REST gateway only ever
// probes down to the first segment that answers, handing everything past
// it to http_get as args.
type Resource struct{}

func newResource() any { return &Resource{} }

func resourceHTTPGet(instance any, args []any, kwargs map[string]any) (any, error) {
	if len(args) == 0 {
		ids := make([]int, len(resourceData))
		for i, it := range resourceData {
			ids[i] = it.ID
		}
		return ids, nil
	}

	idx := int(toFloat(args[0]))
	for _, it := range resourceData {
		if it.ID == idx {
			return it, nil
		}
	}
	return nil, fmt.Errorf("examples: no such item: %d", idx)
}
