package serviceindex

import (
	"reflect"
	"testing"
)

func TestIndex_SetGet_HealthyOnly(t *testing.T) {
	idx := New()
	idx.Set(Record{ContainerID: "c1", Service: "api", Project: "casa", ServerID: "server1", IP: "10.0.1.1", Healthy: true, StartedAt: 1})
	idx.Set(Record{ContainerID: "c2", Service: "api", Project: "casa", ServerID: "server1", IP: "10.0.1.2", Healthy: false, StartedAt: 2})

	got := idx.Get("casa-api")
	want := []string{"10.0.1.1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Get() = %v, want %v", got, want)
	}
}

func TestIndex_Get_CaseInsensitive(t *testing.T) {
	idx := New()
	idx.Set(Record{ContainerID: "c1", Service: "Api", Project: "Casa", ServerID: "s1", IP: "10.0.1.1", Healthy: true, StartedAt: 1})

	if got := idx.Get("CASA-API"); !reflect.DeepEqual(got, []string{"10.0.1.1"}) {
		t.Fatalf("Get() = %v", got)
	}
}

func TestIndex_Get_InstanceHostname(t *testing.T) {
	idx := New()
	idx.Set(Record{ContainerID: "c1", Service: "web", Project: "app", ServerID: "s1", IP: "10.0.1.5", Healthy: true, StartedAt: 1, InstanceID: "2"})

	if got := idx.Get("app-web-2"); !reflect.DeepEqual(got, []string{"10.0.1.5"}) {
		t.Fatalf("instance lookup = %v", got)
	}
	if got := idx.Get("app-web"); !reflect.DeepEqual(got, []string{"10.0.1.5"}) {
		t.Fatalf("primary lookup = %v", got)
	}
}

func TestIndex_Get_NewestStartedAtPerServerWins(t *testing.T) {
	idx := New()
	idx.Set(Record{ContainerID: "c1", Service: "api", Project: "casa", ServerID: "server1", IP: "10.0.1.1", Healthy: true, StartedAt: 1000})
	idx.Set(Record{ContainerID: "c2", Service: "api", Project: "casa", ServerID: "server1", IP: "10.0.1.2", Healthy: true, StartedAt: 2000})
	idx.Set(Record{ContainerID: "c3", Service: "api", Project: "casa", ServerID: "server2", IP: "10.0.2.1", Healthy: true, StartedAt: 1500})

	got := idx.Get("casa-api")
	want := []string{"10.0.1.2", "10.0.2.1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Get() = %v, want %v", got, want)
	}
}

func TestIndex_Get_TieBrokenByContainerIDLexGreater(t *testing.T) {
	idx := New()
	idx.Set(Record{ContainerID: "aaa", Service: "api", Project: "casa", ServerID: "server1", IP: "10.0.1.1", Healthy: true, StartedAt: 1000})
	idx.Set(Record{ContainerID: "zzz", Service: "api", Project: "casa", ServerID: "server1", IP: "10.0.1.2", Healthy: true, StartedAt: 1000})

	got := idx.Get("casa-api")
	want := []string{"10.0.1.2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Get() = %v, want %v", got, want)
	}
}

func TestIndex_Get_MissingHostname(t *testing.T) {
	idx := New()
	if got := idx.Get("nope"); got != nil {
		t.Fatalf("Get() = %v, want nil", got)
	}
}

func TestIndex_Remove(t *testing.T) {
	idx := New()
	idx.Set(Record{ContainerID: "c1", Service: "api", Project: "casa", ServerID: "s1", IP: "10.0.1.1", Healthy: true, StartedAt: 1})

	if !idx.Remove("c1") {
		t.Fatalf("Remove() = false, want true")
	}
	if got := idx.Get("casa-api"); got != nil {
		t.Fatalf("Get() after remove = %v, want nil", got)
	}
	if idx.Remove("c1") {
		t.Fatalf("second Remove() = true, want false")
	}
}

func TestIndex_SetRemove_RestoresStats(t *testing.T) {
	idx := New()
	before := idx.Stats()

	idx.Set(Record{ContainerID: "c1", Service: "api", Project: "casa", ServerID: "s1", IP: "10.0.1.1", Healthy: true, StartedAt: 1})
	idx.Remove("c1")

	after := idx.Stats()
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("Stats() after set+remove = %+v, want %+v", after, before)
	}
}

func TestIndex_Stats(t *testing.T) {
	idx := New()
	idx.Set(Record{ContainerID: "c1", Service: "api", Project: "casa", ServerID: "s1", IP: "10.0.1.1", Healthy: true, StartedAt: 1})
	idx.Set(Record{ContainerID: "c2", Service: "api", Project: "casa", ServerID: "s2", IP: "10.0.1.2", Healthy: false, StartedAt: 1})

	got := idx.Stats()
	want := Stats{TotalRecords: 2, HealthyRecords: 1, Hostnames: 1}
	if got != want {
		t.Fatalf("Stats() = %+v, want %+v", got, want)
	}
}

func TestIndex_Set_UpdateChangesInstanceHostname(t *testing.T) {
	idx := New()
	idx.Set(Record{ContainerID: "c1", Service: "web", Project: "app", ServerID: "s1", IP: "10.0.1.1", Healthy: true, StartedAt: 1, InstanceID: "1"})
	idx.Set(Record{ContainerID: "c1", Service: "web", Project: "app", ServerID: "s1", IP: "10.0.1.1", Healthy: true, StartedAt: 2, InstanceID: "2"})

	if got := idx.Get("app-web-1"); got != nil {
		t.Fatalf("stale instance hostname still resolves: %v", got)
	}
	if got := idx.Get("app-web-2"); !reflect.DeepEqual(got, []string{"10.0.1.1"}) {
		t.Fatalf("Get(app-web-2) = %v", got)
	}
}
