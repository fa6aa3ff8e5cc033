package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppCommands(t *testing.T) {
	app := App()
	assert.Equal(t, "errd-sim", app.Name)
	for _, name := range []string{"domains", "simulate", "history"} {
		assert.NotNil(t, app.Command(name), name)
	}
	assert.NoError(t, app.Run([]string{"errd-sim", "domains"}))
}
