package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitList(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "blank", in: " , ", want: nil},
		{name: "trims and drops empties", in: " kafka-1:9092 ,,", want: []string{"kafka-1:9092"}},
		{name: "dedupes keeping order", in: "b,a,b,a", want: []string{"b", "a"}},
		{name: "case sensitive", in: "https://Gate.example,https://gate.example", want: []string{"https://Gate.example", "https://gate.example"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitList(tt.in))
		})
	}
}
