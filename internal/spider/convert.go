package spider

import (
	"github.com/webtm/webtm-go/internal/models"
	"github.com/webtm/webtm-go/pkg/tieba"
)

func convertUser(u tieba.User) models.User {
	return models.User{
		UserID:   u.ID,
		UserName: u.Name,
		NickName: u.NickName,
		Portrait: u.Portrait,
		Level:    u.Level,
	}
}

func convertImages(images []tieba.Image) []models.Image {
	if len(images) == 0 {
		return nil
	}
	out := make([]models.Image, len(images))
	for i, img := range images {
		out[i] = models.Image{Hash: img.Hash, Width: img.Width, Height: img.Height, Src: img.Src}
	}
	return out
}

func convertThread(t tieba.Thread) *models.Thread {
	return &models.Thread{
		ContentBase: models.ContentBase{
			Fname:      t.Fname,
			Tid:        t.Tid,
			Pid:        t.Pid,
			Title:      t.Title,
			Text:       t.Text,
			Images:     convertImages(t.Images),
			CreateTime: t.CreateTime,
			Floor:      1,
			Author:     convertUser(t.Author),
		},
		LastTime: t.LastTime,
		ReplyNum: t.ReplyNum,
	}
}

func convertPost(p tieba.Post) *models.Post {
	return &models.Post{
		ContentBase: models.ContentBase{
			Fname:      p.Fname,
			Tid:        p.Tid,
			Pid:        p.Pid,
			Title:      p.Title,
			Text:       p.Text,
			Images:     convertImages(p.Images),
			CreateTime: p.CreateTime,
			Floor:      p.Floor,
			Author:     convertUser(p.Author),
		},
		ReplyNum: p.ReplyNum,
	}
}

func convertComment(c tieba.Comment) *models.Comment {
	return &models.Comment{
		ContentBase: models.ContentBase{
			Fname:      c.Fname,
			Tid:        c.Tid,
			Pid:        c.Pid,
			Title:      c.Title,
			Text:       c.Text,
			CreateTime: c.CreateTime,
			Floor:      c.Floor,
			Author:     convertUser(c.Author),
		},
	}
}
