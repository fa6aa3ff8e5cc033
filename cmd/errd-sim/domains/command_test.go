package domains

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocketbitz/fabric-errd/errdomain"
)

func TestSummarize(t *testing.T) {
	reg, err := errdomain.ClassifyDefault(false)
	require.NoError(t, err)

	rows := Summarize(reg)
	total := 0
	var pmon *Row
	for i := range rows {
		for _, n := range rows[i].Actions {
			total += n
		}
		if rows[i].Group == errdomain.GroupPMON {
			pmon = &rows[i]
		}
	}
	assert.Equal(t, reg.Count(), total)
	require.NotNil(t, pmon)
	assert.Equal(t, errdomain.PMONOverflowGroups, pmon.Actions[errdomain.ActionPMONOverflow])
	assert.Zero(t, pmon.Actions[errdomain.ActionNone])
}

func TestRender(t *testing.T) {
	reg, err := errdomain.ClassifyDefault(true)
	require.NoError(t, err)

	var buf bytes.Buffer
	Render(&buf, Summarize(reg))
	out := buf.String()
	assert.Contains(t, out, errdomain.GroupAT)
	assert.Contains(t, out, "pasid_dispatch=1")
	assert.Contains(t, out, "0x1a0000")
}
