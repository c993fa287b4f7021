package api

import "net/http"

// instanceInfo is the public view of one configured engine instance. API
// keys never leave the process.
type instanceInfo struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

func (s *Server) handleListInstances(w http.ResponseWriter, _ *http.Request) {
	instances := s.registry.Instances()
	infos := make([]instanceInfo, 0, len(instances))
	for _, inst := range instances {
		infos = append(infos, instanceInfo{Name: inst.Name(), URL: inst.URL()})
	}
	s.writeJSON(w, http.StatusOK, infos)
}
