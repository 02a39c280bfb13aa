// Copyright 2026 Maestro Works
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

package registry

import (
	"fmt"
	"testing"
)

type fakeAdapter struct {
	ID     string
	Family string
}

func TestBaseRegistry_Register(t *testing.T) {
	reg := NewBaseRegistry[fakeAdapter]()

	tests := []struct {
		name    string
		key     string
		item    fakeAdapter
		wantErr bool
	}{
		{
			name: "register valid adapter",
			key:  "semantic_search",
			item: fakeAdapter{ID: "semantic_search", Family: "search"},
		},
		{
			name:    "empty name rejected",
			key:     "",
			item:    fakeAdapter{ID: "", Family: "search"},
			wantErr: true,
		},
		{
			name:    "duplicate name rejected",
			key:     "semantic_search",
			item:    fakeAdapter{ID: "semantic_search", Family: "other"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Register(tt.key, tt.item)
			if (err != nil) != tt.wantErr {
				t.Errorf("Register() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBaseRegistry_GetAndRemove(t *testing.T) {
	reg := NewBaseRegistry[fakeAdapter]()
	if err := reg.Register("web_search", fakeAdapter{ID: "web_search", Family: "search"}); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	got, ok := reg.Get("web_search")
	if !ok || got.Family != "search" {
		t.Errorf("Get() = %+v, %v; want registered adapter", got, ok)
	}

	if _, ok := reg.Get("missing"); ok {
		t.Error("Get() found adapter that was never registered")
	}

	if err := reg.Remove("web_search"); err != nil {
		t.Errorf("Remove() error = %v", err)
	}
	if err := reg.Remove("web_search"); err == nil {
		t.Error("Remove() of absent adapter should error")
	}
	if _, ok := reg.Get("web_search"); ok {
		t.Error("adapter still present after Remove()")
	}
}

func TestBaseRegistry_NamesSorted(t *testing.T) {
	reg := NewBaseRegistry[fakeAdapter]()
	for _, name := range []string{"web_search", "calendar_op", "semantic_search"} {
		if err := reg.Register(name, fakeAdapter{ID: name}); err != nil {
			t.Fatalf("Register(%s) failed: %v", name, err)
		}
	}

	names := reg.Names()
	want := []string{"calendar_op", "semantic_search", "web_search"}
	if len(names) != len(want) {
		t.Fatalf("Names() length = %d, want %d", len(names), len(want))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}

func TestBaseRegistry_CountAndClear(t *testing.T) {
	reg := NewBaseRegistry[fakeAdapter]()
	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("adapter-%d", i)
		if err := reg.Register(name, fakeAdapter{ID: name}); err != nil {
			t.Fatalf("Register(%s) failed: %v", name, err)
		}
	}

	if count := reg.Count(); count != 3 {
		t.Errorf("Count() = %d, want 3", count)
	}

	reg.Clear()
	if count := reg.Count(); count != 0 {
		t.Errorf("Count() after Clear() = %d, want 0", count)
	}
	if items := reg.List(); len(items) != 0 {
		t.Errorf("List() after Clear() length = %d, want 0", len(items))
	}
}

func TestBaseRegistry_Concurrency(t *testing.T) {
	reg := NewBaseRegistry[fakeAdapter]()
	done := make(chan bool, 2)

	go func() {
		defer func() { done <- true }()
		for i := 0; i < 100; i++ {
			name := fmt.Sprintf("concurrent-%d", i)
			_ = reg.Register(name, fakeAdapter{ID: name})
		}
	}()

	go func() {
		defer func() { done <- true }()
		for i := 0; i < 100; i++ {
			reg.Get(fmt.Sprintf("concurrent-%d", i))
			reg.Count()
			reg.Names()
		}
	}()

	<-done
	<-done

	if count := reg.Count(); count != 100 {
		t.Errorf("Count() after concurrent registration = %d, want 100", count)
	}
}
