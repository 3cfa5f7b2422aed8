package secretsmanager

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCredsFromSecret(t *testing.T) {
	user, pass, err := credsFromSecret("root:s3cr:et\n")
	require.NoError(t, err)
	require.Equal(t, "root", user)
	require.Equal(t, "s3cr:et", pass)

	_, _, err = credsFromSecret("nopassword")
	require.Error(t, err)

	_, _, err = credsFromSecret(":pass")
	require.Error(t, err)
}
