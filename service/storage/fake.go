package storage

import (
	"github.com/sentryvision/sv-go/service/config"
)

type fakeService struct {
	CfgSvc config.IService
}

// NewFake stands in for the cloud evidence store. Uploads succeed with
// an empty URL so downstream records simply omit the clip reference.
func NewFake(cfgsvc config.IService) IService {
	return &fakeService{
		CfgSvc: cfgsvc,
	}
}

func (svc *fakeService) StoreFile(_ string) (string, error) {
	return "", nil
}
