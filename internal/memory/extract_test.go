package memory

import (
	"strings"
	"testing"
)

func TestExtractPreference(t *testing.T) {
	facts := ExtractFacts("I really love hiking in the mountains. It clears my head.")
	if len(facts) != 1 {
		t.Fatalf("got %d facts, want 1", len(facts))
	}
	f := facts[0]
	if f.Kind != "preference" || f.Text != "Enjoys hiking in the mountains" || f.Confidence != 0.8 {
		t.Errorf("unexpected fact: %+v", f)
	}
}

func TestExtractDislike(t *testing.T) {
	facts := ExtractFacts("Honestly I hate cold coffee!")
	if len(facts) != 1 {
		t.Fatalf("got %d facts, want 1", len(facts))
	}
	f := facts[0]
	if f.Kind != "preference" || f.Text != "Dislikes cold coffee" || f.Confidence != 0.75 {
		t.Errorf("unexpected fact: %+v", f)
	}
}

func TestExtractEventAndJob(t *testing.T) {
	facts := ExtractFacts("I just went to the museum. I work as a data analyst.")
	if len(facts) != 2 {
		t.Fatalf("got %d facts, want 2", len(facts))
	}
	if facts[0].Kind != "event" || facts[0].Text != "Recently the museum" || facts[0].Confidence != 0.7 {
		t.Errorf("unexpected event fact: %+v", facts[0])
	}
	if facts[1].Kind != "fact" || facts[1].Text != "Role: a data analyst" || facts[1].Confidence != 0.65 {
		t.Errorf("unexpected job fact: %+v", facts[1])
	}
}

func TestExtractRelationshipWithName(t *testing.T) {
	facts := ExtractFacts("I was talking with my sister Emma about the trip")
	if len(facts) != 1 {
		t.Fatalf("got %d facts, want 1", len(facts))
	}
	f := facts[0]
	if f.Kind != "relationship" || f.Confidence != 0.7 {
		t.Fatalf("unexpected fact: %+v", f)
	}
	if f.Text != "Mentions sibling: Emma" {
		t.Errorf("text = %q", f.Text)
	}
	if f.Metadata["relationship_type"] != "sibling" || f.Metadata["target_name"] != "Emma" {
		t.Errorf("metadata = %v", f.Metadata)
	}
}

func TestExtractRelationshipWithoutName(t *testing.T) {
	facts := ExtractFacts("Been thinking about my boss \nlately")
	if len(facts) != 1 {
		t.Fatalf("got %d facts, want 1", len(facts))
	}
	f := facts[0]
	if f.Text != "Talks about their boss" {
		t.Errorf("text = %q", f.Text)
	}
	if f.Metadata["target_name"] != "" {
		t.Errorf("target_name = %q, want empty", f.Metadata["target_name"])
	}
}

func TestExtractCapsFactCount(t *testing.T) {
	text := strings.Repeat("I like apples. ", 10)
	facts := ExtractFacts(text)
	if len(facts) != maxFactsPerTurn {
		t.Errorf("got %d facts, want cap %d", len(facts), maxFactsPerTurn)
	}
}

func TestCleanFragmentTrimsAndCaps(t *testing.T) {
	if got := cleanFragment("  pizza!?  "); got != "pizza" {
		t.Errorf("got %q, want pizza", got)
	}
	long := strings.Repeat("a", 300)
	if got := cleanFragment(long); len(got) != 240 {
		t.Errorf("got len %d, want 240", len(got))
	}
}

func TestNormalizeText(t *testing.T) {
	if got := normalizeText("  Enjoys   Cold\tBrew "); got != "enjoys cold brew" {
		t.Errorf("got %q", got)
	}
}
