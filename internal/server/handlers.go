package server

import (
	"github.com/gin-gonic/gin"

	"github.com/thiagokokada/refdiff/internal/contentapi"
	"github.com/thiagokokada/refdiff/internal/gitdiff"
)

func (s *server) initCompare(r gin.IRouter) {
	r.POST("/compare", postJSON(func(c *gin.Context, args *gitdiff.CompareArgs) (any, error) {
		if args.CallerIdentity == "" {
			args.CallerIdentity = callerIdentity(c)
		}
		return s.service.Compare(c.Request.Context(), *args)
	}))
}

func (s *server) initContents(r gin.IRouter) {
	r.POST("/contents", postJSON(func(c *gin.Context, req *contentapi.Request) (any, error) {
		src := req.Repo.Source()
		src.CallerIdentity = callerIdentity(c)
		contents, err := s.service.Contents(c.Request.Context(), src, req.Query())
		if err != nil {
			return nil, err
		}
		return contentapi.NewResponse(contents), nil
	}))
}

type branchParams struct {
	FullName  string `form:"fullName"`
	URL       string `form:"url"`
	LocalPath string `form:"localPath"`
}

func (s *server) initBranches(r gin.IRouter) {
	r.GET("/branches", getP(func(c *gin.Context, p *branchParams) (any, error) {
		branches, err := s.service.Branches(c.Request.Context(), gitdiff.Source{
			FullName:       p.FullName,
			URL:            p.URL,
			LocalPath:      p.LocalPath,
			CallerIdentity: callerIdentity(c),
		})
		if err != nil {
			return nil, err
		}
		return gin.H{"branches": branches}, nil
	}))
}
