// Package sink links every statistics sink type into the binary.
package sink

import (
	_ "firestige.xyz/tcpgeek/internal/sink/clickhouse"
	_ "firestige.xyz/tcpgeek/internal/sink/console"
	_ "firestige.xyz/tcpgeek/internal/sink/file"
	_ "firestige.xyz/tcpgeek/internal/sink/kafka"
	_ "firestige.xyz/tcpgeek/internal/sink/nats"
	_ "firestige.xyz/tcpgeek/internal/sink/npy"
	_ "firestige.xyz/tcpgeek/internal/sink/websocket"
)
