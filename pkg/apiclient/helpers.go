package apiclient

import "context"

// Generic wrappers keep the per-resource methods down to one line each.

func getResource[T any](ctx context.Context, c *Client, path string) (*T, error) {
	var out T
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func listResources[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	var out []T
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func createResource[T any](ctx context.Context, c *Client, path string, body any) (*T, error) {
	var out T
	if err := c.post(ctx, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func updateResource[T any](ctx context.Context, c *Client, path string, body any) (*T, error) {
	var out T
	if err := c.put(ctx, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
