package compiler

import (
	"strings"
	"testing"

	"github.com/infraweave-io/infraweave/internal/models"
)

func TestCompileModuleRootHoistsVariablesAndOutputs(t *testing.T) {
	root := CompileModuleRoot(
		[]models.TfVariable{{Name: "bucketName", Type: "string"}},
		[]models.TfOutput{{Name: "arn"}},
		[]models.ProviderRequirement{{Name: "aws", Version: "~> 5.0"}},
	)

	if !strings.Contains(root.VariablesTF, `variable "bucketName"`) {
		t.Fatalf("expected hoisted variable, got: %s", root.VariablesTF)
	}
	if !strings.Contains(root.MainTF, `source = "./src"`) {
		t.Fatalf("expected module source ./src, got: %s", root.MainTF)
	}
	if !strings.Contains(root.MainTF, "bucketName = var.bucketName") {
		t.Fatalf("expected input wired to root variable, got: %s", root.MainTF)
	}
	if !strings.Contains(root.OutputsTF, "module.main.arn") {
		t.Fatalf("expected hoisted output, got: %s", root.OutputsTF)
	}
	if !strings.Contains(root.ProvidersTF, `source  = "aws"`) {
		t.Fatalf("expected provider declaration, got: %s", root.ProvidersTF)
	}
}

func TestCompileStackRootWiresCrossModuleOutputs(t *testing.T) {
	children := []ChildModule{
		{
			Claim:     models.ModuleClaim{Module: "VPC", Version: "1.0.0", Alias: "network"},
			Variables: []models.TfVariable{{Name: "cidr", Type: "string"}},
			Outputs:   []models.TfOutput{{Name: "vpcId"}},
		},
		{
			Claim: models.ModuleClaim{
				Module: "S3Bucket", Version: "1.0.0", Alias: "storage",
				VariableMapping: map[string]string{"vpcId": "network.vpcId"},
			},
			Variables: []models.TfVariable{{Name: "vpcId", Type: "string"}, {Name: "bucketName", Type: "string"}},
		},
	}

	root := CompileStackRoot(
		[]models.TfVariable{{Name: "bucketName", Type: "string"}},
		nil,
		children,
		nil,
	)

	if !strings.Contains(root.MainTF, `source = "./modules/network"`) {
		t.Fatalf("expected network module block, got: %s", root.MainTF)
	}
	if !strings.Contains(root.MainTF, "vpcId = module.network.vpcId") {
		t.Fatalf("expected cross-module output reference, got: %s", root.MainTF)
	}
	if !strings.Contains(root.MainTF, "bucketName = var.bucketName") {
		t.Fatalf("expected unmapped input to fall back to root variable, got: %s", root.MainTF)
	}
}
