package grpcapi

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ProtoFile is the descriptor path of the service, registered in protoregistry.GlobalFiles so that
// server reflection can describe it.
const ProtoFile = "datacompressor/v1/compressor.proto"

func init() {
	if _, err := protoregistry.GlobalFiles.FindFileByPath(ProtoFile); err == nil {
		return
	}
	fd, err := buildFileDescriptor(protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("grpcapi: build %s: %v", ProtoFile, err))
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		panic(fmt.Sprintf("grpcapi: register %s: %v", ProtoFile, err))
	}
}

func buildFileDescriptor(resolver protodesc.Resolver) (protoreflect.FileDescriptor, error) {
	double := wrapperspb.File_google_protobuf_wrappers_proto
	empty := emptypb.File_google_protobuf_empty_proto
	str := structpb.File_google_protobuf_struct_proto

	method := func(name string, in, out protoreflect.FullName) *descriptorpb.MethodDescriptorProto {
		return &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(name),
			InputType:  proto.String("." + string(in)),
			OutputType: proto.String("." + string(out)),
		}
	}

	doubleValue := (&wrapperspb.DoubleValue{}).ProtoReflect().Descriptor().FullName()
	int64Value := (&wrapperspb.Int64Value{}).ProtoReflect().Descriptor().FullName()
	emptyMsg := (&emptypb.Empty{}).ProtoReflect().Descriptor().FullName()
	structMsg := (&structpb.Struct{}).ProtoReflect().Descriptor().FullName()

	file := &descriptorpb.FileDescriptorProto{
		Name:       proto.String(ProtoFile),
		Package:    proto.String("datacompressor.v1"),
		Dependency: []string{double.Path(), empty.Path(), str.Path()},
		Syntax:     proto.String("proto3"),
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("Compressor"),
			Method: []*descriptorpb.MethodDescriptorProto{
				method("Push", doubleValue, emptyMsg),
				method("Summary", emptyMsg, structMsg),
				method("At", int64Value, doubleValue),
			},
		}},
	}
	return protodesc.NewFile(file, resolver)
}
