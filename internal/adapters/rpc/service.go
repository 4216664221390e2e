package rpc

import "google.golang.org/grpc"

// serviceName and the Exchange stream path below are the hand-written
// equivalent of what protoc-gen-go-grpc would emit from a .proto; there is
// none in this module, so the ServiceDesc is written out directly.
const serviceName = "forgemake.rpc.JobServer"

// exchangeStreamName is the bidirectional stream every JobExec supervisor
// opens once in Dial and keeps for the life of the job: requests
// (Start/End/ChkDeps/DepInfos/LiveOut) flow client-to-server, and
// server-initiated callbacks (Heartbeat/Kill) flow the other way on the
// same stream.
const exchangeStreamName = "Exchange"

// exchangeServer is implemented by the make loop's RPC adapter.
type exchangeServer interface {
	Exchange(stream grpc.ServerStream) error
}

// serviceDesc is registered on the grpc.Server by Server.ServeListener.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*exchangeServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    exchangeStreamName,
			Handler:       exchangeHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "forgemake/rpc",
}

func exchangeHandler(srv any, stream grpc.ServerStream) error {
	return srv.(exchangeServer).Exchange(stream)
}
