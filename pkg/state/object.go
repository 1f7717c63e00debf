package state

import (
	"context"
	"errors"
	"path"

	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/storage"
)

// ObjectStore keeps each key as a JSON object in a bucket, next to the
// exports it describes.
type ObjectStore struct {
	store  storage.ReadWriter
	prefix string
}

func NewObjectStore(store storage.ReadWriter, prefix string) *ObjectStore {
	return &ObjectStore{store: store, prefix: prefix}
}

func (o *ObjectStore) key(key string) string {
	return path.Join(o.prefix, key+".json")
}

func (o *ObjectStore) Load(ctx context.Context, key string) (State, error) {
	data, err := o.store.Read(ctx, o.key(key))
	if errors.Is(err, storage.ErrObjectNotFound) {
		return State{}, nil
	}
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

func (o *ObjectStore) Save(ctx context.Context, key string, s State) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}
	return o.store.Write(ctx, o.key(key), data)
}
