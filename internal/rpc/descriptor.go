// Package rpc exposes the plant care service over gRPC. Messages are protobuf
// well-known types so no generated code is needed; the service descriptor is
// registered at init so server reflection and grpcurl can describe it.
package rpc

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	_ "google.golang.org/protobuf/types/known/emptypb"
	_ "google.golang.org/protobuf/types/known/structpb"
	_ "google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	FileName    = "plantcare/v1/plantcare.proto"
	ServiceName = "plantcare.v1.PlantCare"
)

const (
	typeEmpty  = ".google.protobuf.Empty"
	typeStruct = ".google.protobuf.Struct"
	typeString = ".google.protobuf.StringValue"
)

type methodSpec struct {
	name   string
	input  string
	output string
}

var methodSpecs = []methodSpec{
	{name: "GetFleet", input: typeEmpty, output: typeStruct},
	{name: "GetSummary", input: typeEmpty, output: typeStruct},
	{name: "GetPlant", input: typeString, output: typeStruct},
	{name: "GetLatest", input: typeString, output: typeStruct},
	{name: "SendCommand", input: typeStruct, output: typeStruct},
	{name: "ListCommands", input: typeStruct, output: typeStruct},
}

var fileDescriptor protoreflect.FileDescriptor

func init() {
	fd, err := buildFile()
	if err != nil {
		panic(fmt.Sprintf("rpc: build %s: %v", FileName, err))
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		panic(fmt.Sprintf("rpc: register %s: %v", FileName, err))
	}
	fileDescriptor = fd
}

// FileDescriptor returns the registered service file.
func FileDescriptor() protoreflect.FileDescriptor {
	return fileDescriptor
}

func buildFile() (protoreflect.FileDescriptor, error) {
	methods := make([]*descriptorpb.MethodDescriptorProto, 0, len(methodSpecs))
	for _, m := range methodSpecs {
		methods = append(methods, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(m.name),
			InputType:  proto.String(m.input),
			OutputType: proto.String(m.output),
		})
	}
	file := &descriptorpb.FileDescriptorProto{
		Name:    proto.String(FileName),
		Package: proto.String("plantcare.v1"),
		Syntax:  proto.String("proto3"),
		Dependency: []string{
			"google/protobuf/empty.proto",
			"google/protobuf/struct.proto",
			"google/protobuf/wrappers.proto",
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name:   proto.String("PlantCare"),
			Method: methods,
		}},
		Options: &descriptorpb.FileOptions{
			GoPackage: proto.String("github.com/joshp123/plantcare/internal/rpc"),
		},
	}
	return protodesc.NewFile(file, protoregistry.GlobalFiles)
}
