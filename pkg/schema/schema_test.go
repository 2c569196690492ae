package schema

import (
	"path/filepath"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		path string
		want Kind
	}{
		{"/data/Slot_0412/json/000123.json", Slot},
		{"/data/2D-OD_front/json/000123.json", OD2D},
		{"/data/AVM_batch7/json/000123.json", AVM},
		{"/data/slot_lower/json/000123.json", AVM},
		{"/data/json/Slot_here.json", AVM},
		{"000123.json", AVM},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := Classify(tt.path); got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.path, got, tt.want)
			}
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	path := "/data/Slot_17/labels/frame.json"
	first := Classify(path)
	for i := 0; i < 5; i++ {
		if Classify(path) != first {
			t.Fatal("Classify is not deterministic")
		}
	}
}

func TestLayout(t *testing.T) {
	l := LayoutFor("/data/Slot_17/labels/frame_001.json")
	if l.Root != "/data/Slot_17" || l.Stem != "frame_001" {
		t.Fatalf("unexpected layout %+v", l)
	}
	if got, want := l.VisPath(), filepath.Join("/data/Slot_17", "vis_avm", "frame_001.png"); got != want {
		t.Errorf("VisPath() = %s, want %s", got, want)
	}
	if got, want := l.AVMPath(), filepath.Join("/data/Slot_17", "AVM", "frame_001.jpg"); got != want {
		t.Errorf("AVMPath() = %s, want %s", got, want)
	}
	if got, want := l.ImagePath(), filepath.Join("/data/Slot_17", "image", "frame_001.jpg"); got != want {
		t.Errorf("ImagePath() = %s, want %s", got, want)
	}
}

func TestKindString(t *testing.T) {
	if AVM.String() != "avm" || Slot.String() != "slot" || OD2D.String() != "2d-od" {
		t.Error("unexpected kind names")
	}
}
