//go:build integration

//nolint:misspell // Mosquitto is the official Eclipse project name
package containers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMosquittoContainer_Collect(t *testing.T) {
	ctx := context.Background()

	broker, err := NewMosquittoContainer(ctx, nil)
	require.NoError(t, err, "failed to create Mosquitto container")
	defer func() {
		assert.NoError(t, broker.Terminate(ctx))
	}()

	col, err := broker.Collect("liftmate/#")
	require.NoError(t, err)
	defer col.Close()

	publisher, err := broker.CreateClient("publisher")
	require.NoError(t, err)
	defer publisher.Disconnect(250)

	for _, topic := range []string{"liftmate/a", "liftmate/b", "other/c"} {
		token := publisher.Publish(topic, 1, false, []byte("payload"))
		require.True(t, token.WaitTimeout(5*time.Second), "publish timeout")
		require.NoError(t, token.Error())
	}

	require.Eventually(t, func() bool { return len(col.Messages()) == 2 }, 5*time.Second, 50*time.Millisecond)
	topics := []string{col.Messages()[0].Topic, col.Messages()[1].Topic}
	assert.ElementsMatch(t, []string{"liftmate/a", "liftmate/b"}, topics)
}
