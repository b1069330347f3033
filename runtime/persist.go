/* Copyright 2024 Loomworks
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package runtime

import "context"

// ActorsCollection is where actor snapshots live in the external
// store.
const ActorsCollection = "loom.actors"

// snapshotDoc is the persisted shape of one actor.
type snapshotDoc struct {
	Id        string                 `json:"id"`
	Def       string                 `json:"def"`
	Parent    string                 `json:"parent,omitempty"`
	Current   string                 `json:"current"`
	Context   map[string]interface{} `json:"context"`
	Watermark uint64                 `json:"watermark"`
}

// SaveActor snapshots one actor (current state, context, watermark)
// into the store.
func (r *Runtime) SaveActor(ctx context.Context, id string) error {
	a, have := r.Actor(id)
	if !have {
		return &UnknownActor{Id: id}
	}
	doc := map[string]interface{}{
		"id":        a.Id,
		"def":       a.Def.Name,
		"parent":    a.parent,
		"current":   a.Machine.Current,
		"context":   a.Queries.Snapshot(),
		"watermark": a.Inbox.Watermark(),
	}
	return r.Store.Put(ctx, ActorsCollection, id, doc)
}

// SaveAll snapshots every live actor.
func (r *Runtime) SaveAll(ctx context.Context) error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.actors))
	for id := range r.actors {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		if err := r.SaveActor(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// RestoreActor revives an actor from its snapshot: same id, saved
// context and state, and a primed watermark so already-processed log
// entries stay processed.  Descriptor-valued context entries come
// from the definition, not the snapshot, and re-resolve on creation.
func (r *Runtime) RestoreActor(ctx context.Context, id string) (*Actor, error) {
	v, have, err := r.Store.Get(ctx, ActorsCollection, id)
	if err != nil {
		return nil, err
	}
	if !have {
		return nil, &UnknownActor{Id: id}
	}
	doc, is := v.(map[string]interface{})
	if !is {
		return nil, &UnknownActor{Id: id}
	}

	defName, _ := doc["def"].(string)
	parent, _ := doc["parent"].(string)
	current, _ := doc["current"].(string)
	saved, _ := doc["context"].(map[string]interface{})
	var watermark uint64
	switch w := doc["watermark"].(type) {
	case float64:
		watermark = uint64(w)
	case uint64:
		watermark = w
	}

	return r.create(ctx, defName, parent, id, saved, current, watermark)
}
