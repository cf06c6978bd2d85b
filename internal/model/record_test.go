package model

import "testing"

func TestEntityKey_FieldsDoNotCollide(t *testing.T) {
	// A discriminator containing arbitrary text must not be able to forge
	// another key, which is why keys are structs and never joined strings.
	a := EntityKey{Kind: KeyComposite, Primary: "PUG1515", Discriminator: "12/40"}
	b := EntityKey{Kind: KeyComposite, Primary: "PUG1515/12", Discriminator: "40"}
	if a == b {
		t.Error("distinct field layouts compared equal")
	}

	natural := EntityKey{Kind: KeyNatural, Primary: "wx-home"}
	surrogate := EntityKey{Kind: KeySurrogate, Primary: "wx-home"}
	if natural == surrogate {
		t.Error("keys of different kinds compared equal")
	}
}

func TestEntityType_Valid(t *testing.T) {
	for _, et := range AllEntityTypes() {
		if !et.Valid() {
			t.Errorf("%s reported invalid", et)
		}
	}
	if EntityType("fishing_spot").Valid() {
		t.Error("unknown type reported valid")
	}
}

func TestEntityType_KeyKind(t *testing.T) {
	want := map[EntityType]KeyKind{
		EntityTideStation:     KeyNatural,
		EntityCurrentStation:  KeyComposite,
		EntityNavUnit:         KeyNatural,
		EntityWeatherLocation: KeySurrogate,
		EntityRoute:           KeyNatural,
	}
	for et, kind := range want {
		if got := et.KeyKind(); got != kind {
			t.Errorf("%s KeyKind = %v, want %v", et, got, kind)
		}
	}
}

func TestFavoriteRecord_CloneIsIndependent(t *testing.T) {
	orig := &FavoriteRecord{Type: EntityRoute, StationID: "route-7", IsFavorite: true}
	cp := orig.Clone()
	cp.IsFavorite = false
	cp.RemoteID = "r-1"
	if !orig.IsFavorite || orig.RemoteID != "" {
		t.Error("mutating the clone changed the original")
	}
}
