package server

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/a-h/templ"
)

const pageStyle = `
body{margin:0;font-family:system-ui,sans-serif;background:#111;color:#eee;display:flex;flex-direction:column;align-items:center}
header{width:100%;padding:8px 16px;box-sizing:border-box;background:#1b1b1b;font-size:14px}
#stage{margin:16px;max-width:95vw;max-height:70vh;background:repeating-conic-gradient(#222 0% 25%,#2a2a2a 0% 50%) 0 0/16px 16px}
#stage img{display:block;max-width:95vw;max-height:70vh}
#controls{display:flex;gap:8px;align-items:center;width:min(900px,95vw)}
#scrubber{flex:1}
button{background:#333;color:#eee;border:1px solid #444;border-radius:4px;padding:4px 10px;cursor:pointer}
#error{display:none;width:min(900px,95vw);margin-top:12px;padding:12px;background:#3a1414;border:1px solid #a33;border-radius:4px;white-space:pre-wrap;font-family:monospace;font-size:13px}
#checkpoints{width:min(900px,95vw);margin-top:8px;font-size:13px;color:#aaa}
#checkpoints a{color:#8cf;margin-right:10px;cursor:pointer}
`

const pageScript = `
(function(){
  var img=document.getElementById('frame'),slider=document.getElementById('scrubber'),
      label=document.getElementById('position'),play=document.getElementById('play'),
      errBox=document.getElementById('error'),cps=document.getElementById('checkpoints');
  var state=null,generation=0;

  function post(path){return fetch('/api/'+path,{method:'POST'}).then(function(r){return r.json()}).then(apply)}
  function apply(s){
    if(!s||s.totalFrames===undefined)return;
    state=s;
    slider.max=Math.max(0,s.totalFrames-1);
    if(!s.isScrubbing)slider.value=s.currentFrame;
    label.textContent=s.currentFrame+' / '+(s.totalFrames-1);
    play.textContent=s.isPlaying?'Pause':'Play';
    if(s.error!==undefined)showError(s.error);
    fetchFrame(s.currentFrame);
  }
  function fetchFrame(n){
    fetch('/frames/'+n+'.png?g='+generation).then(function(r){
      if(r.status===200)return r.blob().then(function(b){img.src=URL.createObjectURL(b)});
    });
  }
  function showError(e){
    if(!e){errBox.style.display='none';return}
    var text=e.code+': '+e.message;
    if(e.frame!==undefined)text+='\nframe '+e.frame;
    if(e.file)text+='\n'+e.file+(e.line?':'+e.line:'');
    (e.suggestions||[]).forEach(function(s){text+='\n- '+s});
    errBox.textContent=text;errBox.style.display='block';
  }
  function loadCheckpoints(){
    fetch('/api/checkpoints').then(function(r){return r.json()}).then(function(d){
      cps.innerHTML='';
      (d.checkpoints||[]).forEach(function(c){
        var a=document.createElement('a');a.textContent=(c.label||c.id)+' @'+c.frame;
        a.onclick=function(){post('seek?frame='+c.frame)};cps.appendChild(a);
      });
    });
  }

  play.onclick=function(){post('toggle')};
  document.getElementById('prev').onclick=function(){post('checkpoints/previous')};
  document.getElementById('next').onclick=function(){post('checkpoints/next')};
  slider.onpointerdown=function(){post('scrub/start?frame='+slider.value)};
  slider.oninput=function(){post('scrub?frame='+slider.value)};
  slider.onpointerup=function(){post('scrub/stop')};

  function connect(){
    var ws=new WebSocket((location.protocol==='https:'?'wss://':'ws://')+location.host+'/ws');
    ws.onmessage=function(ev){
      var m=JSON.parse(ev.data);
      switch(m.type){
      case 'state':apply(m.state);break;
      case 'frame':
        generation=m.frame.generation;showError(null);
        if(state&&m.frame.frame===state.currentFrame)fetchFrame(m.frame.frame);
        loadCheckpoints();break;
      case 'error':showError(m.error);break;
      case 'reload':showError(null);apply(m.state);loadCheckpoints();break;
      }
    };
    ws.onclose=function(){setTimeout(connect,1000)};
  }

  document.addEventListener('keydown',function(e){
    if(e.target.tagName==='INPUT')return;
    if(e.code==='Space'){e.preventDefault();post('toggle')}
    else if(e.code==='ArrowRight'&&state)post('seek?frame='+(state.currentFrame+1));
    else if(e.code==='ArrowLeft'&&state)post('seek?frame='+(state.currentFrame-1));
  });

  fetch('/api/state').then(function(r){return r.json()}).then(apply);
  loadCheckpoints();
  connect();
})();
`

// Page is the player page as a templ component.
func Page(templatePath string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		title := "framecast"
		if templatePath != "" {
			title = filepath.Base(templatePath) + " - framecast"
		}

		if _, err := fmt.Fprintf(w, `<!DOCTYPE html><html><head><meta charset="utf-8"><title>%s</title><style>%s</style></head><body>`,
			templ.EscapeString(title), pageStyle); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, `<header>%s</header>`, templ.EscapeString(templatePath)); err != nil {
			return err
		}
		if _, err := io.WriteString(w, `<div id="stage"><img id="frame" alt="preview frame"></div>`+
			`<div id="controls"><button id="prev">&#9664;&#9664;</button><button id="play">Play</button>`+
			`<button id="next">&#9654;&#9654;</button><input id="scrubber" type="range" min="0" max="0" value="0">`+
			`<span id="position">0 / 0</span></div><div id="checkpoints"></div><div id="error"></div>`); err != nil {
			return err
		}
		_, err := io.WriteString(w, "<script>"+pageScript+"</script></body></html>")
		return err
	})
}
