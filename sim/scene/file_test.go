package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/traffic-sim/sim/internal/testutil"
)

func TestLoad_ExampleScene(t *testing.T) {
	f, err := Load(testutil.TestdataPath(t, "scenes", "highway.yaml"))
	require.NoError(t, err)

	assert.Equal(t, int64(42), f.Seed)
	assert.Equal(t, []int{3, 2}, f.Road.Lanes)
	assert.Equal(t, "single", f.Ego.Type)
	assert.Len(t, f.Vehicles, 4)
	assert.Len(t, f.Triggers, 2)
	require.NotNil(t, f.Shadow)
	assert.Len(t, f.Shadow.Vehicles, 1)
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("road: {lanes: [2], section_length: 100}\nego: {type: none}\nvehicels: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vehicels")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown ego type",
			yaml:    "ego: {type: bus}",
			wantErr: "unknown ego type",
		},
		{
			name:    "single without leader",
			yaml:    "ego: {type: single}",
			wantErr: "needs a leader",
		},
		{
			name:    "truck without trailer",
			yaml:    "ego: {type: truck-trailer, leader: {id: 1}}",
			wantErr: "needs a trailer",
		},
		{
			name:    "unknown behavior",
			yaml:    "ego: {type: none}\nvehicles: [{id: 1, behavior: teleport}]",
			wantErr: "unknown behavior",
		},
		{
			name:    "replay without track",
			yaml:    "ego: {type: none}\nvehicles: [{id: 1, behavior: replay}]",
			wantErr: "needs a track",
		},
		{
			name:    "trigger with two conditions",
			yaml:    "ego: {type: none}\ntriggers: [{name: x, when: {time: 1, reach_s: {s: 3}}}]",
			wantErr: "exactly one of time",
		},
		{
			name:    "trigger action without kind",
			yaml:    "ego: {type: none}\ntriggers: [{name: x, when: {time: 1}, actions: [{kill: {kind: tree, id: 1}}]}]",
			wantErr: "unknown entity kind",
		},
		{
			name:    "spawn without lanes",
			yaml:    "ego: {type: none}\nspawn: [{name: r, interval: 1}]",
			wantErr: "at least one lane",
		},
		{
			name:    "spawn speed range inverted",
			yaml:    "ego: {type: none}\nspawn: [{name: r, interval: 1, lanes: [1], speed_min: 5, speed_max: 2}]",
			wantErr: "speed_min",
		},
		{
			name:    "retire unknown kind",
			yaml:    "ego: {type: none}\nretire: [{time: 1, kind: cloud, id: 2}]",
			wantErr: "unknown entity kind",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
