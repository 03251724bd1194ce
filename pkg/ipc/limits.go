package ipc

const (
	defaultMaxViewClients = 64

	// Views only send small control messages.
	maxWSReadBytesView = 64 << 10

	maxBodyBytesDocument int64 = 4 << 20
	maxBodyBytesUpdate   int64 = 8 << 20
	maxBodyBytesFrame    int64 = 64 << 20
)
